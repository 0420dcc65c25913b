// Command bigsi is a thin placeholder entry point. Flag parsing, command
// dispatch and transport framing belong to the callers of this module;
// wire them against the bigsi package's exported Index operations.
package main

func main() {
}
