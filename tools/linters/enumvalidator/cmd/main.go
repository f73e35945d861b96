package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"forgeline.dev/bridge/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
