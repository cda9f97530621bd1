// Package enhance defines the enhancement engine boundary. The pipeline only
// sees the Enhancer interface; the production implementation shells out to an
// external audio tool, and tests swap in a scriptable stub.
package enhance

import "context"

// Request describes one enhancement invocation.
type Request struct {
	InputPath  string
	OutputPath string
	Format     string
}

// Enhancer transforms a staged input file into an enhanced output file. The
// engine is opaque: implementations report success or a classifiable error
// and nothing about how the audio was processed.
type Enhancer interface {
	Enhance(ctx context.Context, req Request) error
}
