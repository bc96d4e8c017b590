package main

import "github.com/aanfarhan/sso-sync/cmd/ssosync/cmd"

func main() {
	cmd.Execute()
}
