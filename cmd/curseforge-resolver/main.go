package main

import (
	"os"

	"go-curseforge-resolver/cmd/curseforge-resolver/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
