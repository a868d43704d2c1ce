package main

import (
	"mev-sentinel/internal/cli"
)

func main() {
	cli.Execute()
}
