package main

import "mnemo/cmd"

func main() {
	cmd.Execute()
}
