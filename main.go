package main

import "github.com/vietddude/ghsync/internal/cli"

func main() {
	cli.Execute()
}
