package main

import "stockdata/internal/cli"

func main() {
	cli.Execute()
}
