package main

import (
	"github.com/maxgio92/xstat/pkg/cmd"
)

func main() {
	cmd.Execute()
}
