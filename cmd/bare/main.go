// Command bare encodes, decodes and inspects BARE messages.
package main

func main() {
	Execute()
}
