package main

import "trade-inputs/cli"

func main() {
	cli.Execute()
}
