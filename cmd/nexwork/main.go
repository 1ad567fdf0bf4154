package main

import (
	"os"

	"nexwork/internal/nexwork"
)

func main() {
	os.Exit(nexwork.Run(os.Args[1:]))
}
