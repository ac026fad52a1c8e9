// Command anxun is a campus network security assistant: tshark-based
// capture and parsing with language-model risk analysis.
package main

import "github.com/Zerofisher/anxun/cmd"

func main() {
	cmd.Execute()
}
