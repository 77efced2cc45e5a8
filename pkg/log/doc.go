// Package log provides the structured logging system used by the artio
// engine and its CLIs.
//
// Components receive a Logger by dependency injection and tag their output
// with WithComponent. Output format (text or JSON) and minimum level are
// configured once at process start, typically via ApplyConfig with values
// taken from the environment.
package log
