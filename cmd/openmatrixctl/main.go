package main

import "github.com/koios/openmatrix/internal/cli"

func main() {
	cli.Execute()
}
