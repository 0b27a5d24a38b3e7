package main

import (
	"context"

	"bbcompare/cmd/bbcompare/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
