package main

import "github.com/vietddude/binlens/internal/cli"

func main() {
	cli.Execute()
}
