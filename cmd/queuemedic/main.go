package main

import "github.com/hoangnd/queuemedic/internal/cli"

func main() {
	cli.Execute()
}
