package main

import (
	"context"

	"itemharvest/cmd/itemharvest/commands"
	"itemharvest/lib/serviceutil"
)

func main() {
	ctx, cancel := serviceutil.SignalContext(context.Background())
	defer cancel()
	commands.ExecuteContext(ctx)
}
