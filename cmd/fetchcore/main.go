// Command fetchcore is a minimal CLI front end over the download core: it
// wires a descriptor resolved by the plugin dispatcher through the engine
// and prints progress to stderr, in the teacher's headless-mode style.
package main

func main() {
	Execute()
}
