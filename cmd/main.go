package main

import "github.com/dyike/quorumtrade/internal/cli"

func main() {
	cli.Run()
}
