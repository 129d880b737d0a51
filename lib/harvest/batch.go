package harvest

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Batch is one round of identifiers fetched concurrently.
type Batch struct {
	// 1-based position of the batch in the run
	Index int
	IDs   []int
}

// Batches splits [minID, maxID) into rounds that start every step identifiers
// and each hold step+1 consecutive identifiers, so the last identifier of a
// round is also the first of the next one.
func Batches(minID, maxID, step int) ([]Batch, error) {
	if step <= 0 || step == math.MaxInt {
		return nil, fmt.Errorf("id step must be in [1, %d), got %d", math.MaxInt, step)
	}
	if maxID < minID {
		return nil, fmt.Errorf("max id %d is below min id %d", maxID, minID)
	}
	// the last round starts at most at maxID-1 and ends step ids later
	if maxID > minID && maxID-1 > math.MaxInt-step {
		return nil, fmt.Errorf("id range [%d, %d) with step %d overflows", minID, maxID, step)
	}

	var out []Batch
	for start := minID; start < maxID; start += step {
		ids := make([]int, 0, step+1)
		for i := 0; i <= step; i++ {
			ids = append(ids, start+i)
		}
		out = append(out, Batch{Index: len(out) + 1, IDs: ids})
	}
	return out, nil
}

// Chunk splits items into groups of size, padding the last group with pad
// when it comes up short.
func Chunk[T any](items []T, size int, pad T) [][]T {
	if size <= 0 {
		return nil
	}
	var out [][]T
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		chunk := make([]T, 0, size)
		chunk = append(chunk, items[i:end]...)
		for len(chunk) < size {
			chunk = append(chunk, pad)
		}
		out = append(out, chunk)
	}
	return out
}

var ErrBadTemplate = errors.New("url template must contain exactly one %d")

// URLTemplate turns an item identifier into its page url and back.
type URLTemplate struct {
	prefix string
	suffix string
}

func ParseTemplate(template string) (URLTemplate, error) {
	if strings.Count(template, "%d") != 1 ||
		strings.Count(strings.ReplaceAll(template, "%%", ""), "%") != 1 {
		return URLTemplate{}, fmt.Errorf("%w: %q", ErrBadTemplate, template)
	}
	prefix, suffix, _ := strings.Cut(template, "%d")
	return URLTemplate{
		prefix: strings.ReplaceAll(prefix, "%%", "%"),
		suffix: strings.ReplaceAll(suffix, "%%", "%"),
	}, nil
}

func (t URLTemplate) URL(id int) string {
	return t.prefix + strconv.Itoa(id) + t.suffix
}

// Identifier strips the fixed prefix and suffix of the template from url.
func (t URLTemplate) Identifier(url string) (string, error) {
	if !strings.HasPrefix(url, t.prefix) || !strings.HasSuffix(url, t.suffix) ||
		len(url) <= len(t.prefix)+len(t.suffix) {
		return "", fmt.Errorf("url %q does not match the template", url)
	}
	return url[len(t.prefix) : len(url)-len(t.suffix)], nil
}
