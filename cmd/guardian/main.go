package main

import "github.com/ogulcanaydogan/flow-guardian/internal/cli"

func main() {
	cli.Execute()
}
