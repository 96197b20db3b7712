package main

import "marketpulse/internal/cli"

func main() {
	cli.Execute()
}
