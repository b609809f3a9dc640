package main

import (
	"os"

	"mealplan/cmd/mealplan/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
