package main

import "metalledger/internal/cli"

func main() {
	cli.Execute()
}
