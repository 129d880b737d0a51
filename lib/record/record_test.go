package record

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"itemharvest/lib/extract"
	"itemharvest/lib/scopedfile"
)

func TestFromItemLayout(t *testing.T) {
	r := FromItem("4151", extract.Item{
		Name: "Abyssal whip",
		Rows: []extract.Row{
			{Header: "Members:", Values: []string{"Yes"}},
			{Header: "Tradeable:", Values: []string{"Yes"}},
			{Header: "Alch:", Values: []string{"72000", "48000"}},
			{Header: "Examine", Values: nil},
		},
	})

	expected := "item name: Abyssal whip\n" +
		"Members: Yes\n" +
		"Tradeable: Yes\n" +
		"Alch: 72000 / 48000\n" +
		"Examine: \n"
	require.Equal(t, expected, string(Encode(r)))

	value, ok := r.Get("tradeable:")
	require.True(t, ok)
	require.Equal(t, "Yes", value)

	_, ok = r.Get("Stackable")
	require.False(t, ok)
}

func TestFromItemHeaderlessRow(t *testing.T) {
	r := FromItem("1", extract.Item{
		Name: "Rune axe",
		Rows: []extract.Row{
			{Header: "", Values: []string{"Yes"}},
			{Header: "Weight:", Values: []string{"2.2"}},
		},
	})

	encoded := string(Encode(r))
	require.Equal(t, "item name: Rune axe\n: Yes\nWeight: 2.2\n", encoded)

	_, ok := r.Get("Yes")
	require.False(t, ok)
	_, ok = r.Get("")
	require.False(t, ok)

	decoded, err := Decode("1", Lines(r))
	require.NoError(t, err)
	if diff := cmp.Diff(r, decoded); diff != "" {
		t.Fatal(diff)
	}
	_, ok = decoded.Get("Yes")
	require.False(t, ok)
}

func TestDecode(t *testing.T) {
	r, err := Decode("10", []string{
		"item name: Bronze dagger\n",
		"Tradeable: No\n",
		"\n",
		"Examine:\n",
		"Weight: 0.4 kg",
	})
	require.NoError(t, err)

	expected := Record{
		ID:   "10",
		Name: "Bronze dagger",
		Fields: []Field{
			{Name: "Tradeable", Value: "No"},
			{Name: "Examine", Value: ""},
			{Name: "Weight", Value: "0.4 kg"},
		},
	}
	if diff := cmp.Diff(expected, r); diff != "" {
		t.Fatal(diff)
	}

	_, err = Decode("11", nil)
	require.Error(t, err)
	_, err = Decode("11", []string{"Tradeable: Yes\n"})
	require.Error(t, err)
}

func TestWriteRead(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "items")
	fsys := scopedfile.FS{MakeDirs: true}

	original := Record{
		ID:     "31029",
		Name:   "Dragon claws",
		Fields: []Field{{Name: "Tradeable", Value: "Yes"}},
	}
	require.NoError(t, Write(ctx, fsys, dir, original))

	_, err := os.Stat(filepath.Join(dir, "31029.itm"))
	require.NoError(t, err)

	read, err := Read(ctx, fsys, dir, "31029")
	require.NoError(t, err)
	if diff := cmp.Diff(original, read); diff != "" {
		t.Fatal(diff)
	}

	_, err = Read(ctx, fsys, dir, "404")
	require.ErrorIs(t, err, scopedfile.ErrNotFound)
}

func TestPath(t *testing.T) {
	p, err := Path("items", "10")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("items", "10.itm"), p)

	for _, bad := range []string{"", ".", "..", "../10", "a/b", `a\b`, " 10"} {
		_, err := Path("items", bad)
		require.ErrorIs(t, err, ErrBadIdentifier, bad)
	}
}

func TestListAndChangeExtensions(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1.txt", "2.txt", "3.itm", "notes.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.itm"), 0755))

	ids, err := List(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"3"}, ids)

	n, err := ChangeExtensions(dir, ".txt", Extension)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	ids, err = List(dir)
	require.NoError(t, err)
	slices.Sort(ids)
	require.Equal(t, []string{"1", "2", "3"}, ids)
}
