package main

import "gridci/internal/cli"

func main() {
	cli.Execute()
}
