package main

import "github.com/Tiliavir/telesales-timesheet/cmd"

func main() {
	cmd.Execute()
}
