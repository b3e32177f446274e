package main

import "github.com/vietddude/cloudlink/internal/cli"

func main() {
	cli.Execute()
}
