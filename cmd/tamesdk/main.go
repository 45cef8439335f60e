// Command tamesdk is a command-line client for tamed.
package main

import "github.com/donbool/tame/cmd/tamesdk/cmd"

func main() {
	cmd.Execute()
}
