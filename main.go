// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

// glink is the front end of an ELF linker: it ingests relocatable objects,
// archives, shared objects, bitcode containers and raw binary blobs, builds
// the section and symbol model and reports resolution problems. Later
// pipeline stages (layout, relocation, emission) consume the model.
package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/glink-ld/glink/internal/log"
	"github.com/glink-ld/glink/ldfile"
	"github.com/glink-ld/glink/symtab"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

// input is one entry of the ordered input list with the positional toggle
// state in effect at its position.
type input struct {
	path     string
	asNeeded bool
	inLib    bool
	binary   bool
	data     []byte
}

// collectInputs walks the ordered input list, resolving -l tokens against
// the search path and latching the state of the positional toggles.
func collectInputs(args *arguments) ([]*input, error) {
	var inputs []*input
	asNeeded := false
	inLib := false
	for _, tok := range args.rest {
		switch {
		case tok == "--as-needed":
			asNeeded = true
		case tok == "--no-as-needed":
			asNeeded = false
		case tok == "--start-lib":
			if inLib {
				return nil, fmt.Errorf("nested --start-lib")
			}
			inLib = true
		case tok == "--end-lib":
			if !inLib {
				return nil, fmt.Errorf("stray --end-lib")
			}
			inLib = false
		case strings.HasPrefix(tok, "-l"):
			path, err := args.findLibrary(tok[2:])
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, &input{path: path, asNeeded: asNeeded, inLib: inLib})
		case strings.HasPrefix(tok, "-"):
			return nil, fmt.Errorf("unknown argument: %s", tok)
		default:
			inputs = append(inputs, &input{
				path:     tok,
				asNeeded: asNeeded,
				inLib:    inLib,
				binary:   args.format == "binary",
			})
		}
	}
	if inLib {
		return nil, fmt.Errorf("missing --end-lib")
	}
	return inputs, nil
}

func mainWithExitCode() exitCode {
	args, err := parseArgs()
	if err != nil {
		return parseError("Failure to parse arguments: %v", err)
	}
	if args.verbose {
		log.SetDebugLogger()
	}

	cfg, err := args.config()
	if err != nil {
		return parseError("%v", err)
	}

	inputs, err := collectInputs(args)
	if err != nil {
		return parseError("%v", err)
	}
	if len(inputs) == 0 {
		return parseError("no input files")
	}

	tab := symtab.New()
	lk := ldfile.NewLink(cfg, tab)
	tab.Bind(lk)
	defer func() {
		if err := lk.Close(); err != nil {
			log.Errorf("Failed to release inputs: %v", err)
		}
	}()

	// Inputs are read in parallel but ingested strictly in command line
	// order: resolution outcomes depend on it.
	var g errgroup.Group
	for _, in := range inputs {
		in := in
		g.Go(func() error {
			data, err := ldfile.ReadInput(lk, in.path)
			if err != nil {
				return err
			}
			in.data = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Errorf("%v", err)
		return exitFailure
	}

	for _, in := range inputs {
		lk.Config.AsNeeded = in.asNeeded
		if in.binary {
			err = ldfile.AddBinaryFile(lk, in.path, in.data)
		} else {
			err = ldfile.AddFile(lk, in.path, in.data, in.inLib)
		}
		if err != nil {
			log.Errorf("%v", err)
			return exitFailure
		}
	}
	if err := tab.Err(); err != nil {
		log.Errorf("%v", err)
		return exitFailure
	}

	var defined, common, shared, lazy, undef int
	for _, sym := range tab.Symbols() {
		switch {
		case sym.IsDefined():
			defined++
		case sym.IsCommon():
			common++
		case sym.IsShared():
			shared++
		case sym.IsLazy():
			lazy++
		default:
			undef++
		}
	}
	log.Infof("Ingested %d inputs: %d defined, %d common, %d shared, "+
		"%d lazy, %d undefined symbols", len(inputs), defined, common,
		shared, lazy, undef)

	if !cfg.Relocatable {
		if err := tab.ReportUndefined(); err != nil {
			return exitFailure
		}
	}

	log.Debugf("Output would be written to %s", args.output)
	return exitSuccess
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func main() {
	os.Exit(int(mainWithExitCode()))
}
