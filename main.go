package main

import "github.com/daxia778/tg-monitor/cmd"

func main() {
	cmd.Execute()
}
