// Command tamed runs the policy enforcement and audit server.
package main

import "github.com/donbool/tame/cmd/tamed/cmd"

func main() {
	cmd.Execute()
}
