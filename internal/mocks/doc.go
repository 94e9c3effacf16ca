// Package mocks provides centralized mock implementations for testing.
//
// The mocks use function fields so each test can override exactly the
// behaviour it needs, and they record their calls for verification. Defaults
// succeed, so a zero-value mock is usable as a happy-path collaborator.
//
// Usage:
//
//	import "github.com/phrazzld/repurpose/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    gen := &mocks.MockGenerator{
//	        GenerateFn: func(ctx context.Context, in generation.Input) (*generation.Result, error) {
//	            return nil, &llm.Error{Kind: llm.KindUnauthenticated}
//	        },
//	    }
//
//	    // Use the mock in your test...
//	}
//
// When adding a new mock to this package:
//  1. Create a new file named after the interface being mocked
//  2. Implement the mock struct with function fields for each interface method
//  3. Document any helper methods or special functionality
package mocks
