package main

import "github.com/naka-gawa/pr-audit/cmd"

func main() {
	cmd.Execute()
}
