// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"debug/elf"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v3"

	"github.com/glink-ld/glink/elfkit"
	"github.com/glink-ld/glink/ldfile"
)

// Help strings for command line arguments
var (
	outputHelp      = "Write the output to the given path."
	libPathHelp     = "Add a directory to the library search path. May be repeated."
	optimizeHelp    = "Optimization level. 0 disables section merging."
	stripDebugHelp  = "Do not ingest .debug* sections."
	stripAllHelp    = "Strip all symbol information. Implies -strip-debug."
	relocatableHelp = "Produce a relocatable output; relocation sections pass through."
	formatHelp      = "Input format for plain files: default or binary."
	machineHelp     = "Target emulation: elf_x86_64, elf_i386, aarch64elf, elf64ppc."
	verboseHelp     = "Enable verbose logging and debugging capabilities."
)

// emulations maps -m arguments to a machine and format variant.
var emulations = map[string]struct {
	machine elf.Machine
	variant elfkit.Variant
}{
	"elf_x86_64": {elf.EM_X86_64, elfkit.ELF64LE},
	"elf_i386":   {elf.EM_386, elfkit.ELF32LE},
	"aarch64elf": {elf.EM_AARCH64, elfkit.ELF64LE},
	"armelf":     {elf.EM_ARM, elfkit.ELF32LE},
	"elf64ppc":   {elf.EM_PPC64, elfkit.ELF64BE},
	"elf32ppc":   {elf.EM_PPC, elfkit.ELF32BE},
	"elf64_s390": {elf.EM_S390, elfkit.ELF64BE},
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type arguments struct {
	output      string
	libPaths    stringList
	optimize    int
	stripDebug  bool
	stripAll    bool
	relocatable bool
	format      string
	emulation   string
	verbose     bool

	// rest is the ordered input list: paths plus the positional tokens
	// -l<name>, --as-needed, --no-as-needed, --start-lib and --end-lib.
	rest []string

	fs *flag.FlagSet
}

func parseArgs() (*arguments, error) {
	var args arguments

	fs := flag.NewFlagSet("glink", flag.ExitOnError)
	fs.StringVar(&args.output, "o", "a.out", outputHelp)
	fs.Var(&args.libPaths, "L", libPathHelp)
	fs.IntVar(&args.optimize, "O", 1, optimizeHelp)
	fs.BoolVar(&args.stripDebug, "strip-debug", false, stripDebugHelp)
	fs.BoolVar(&args.stripAll, "strip-all", false, stripAllHelp)
	fs.BoolVar(&args.relocatable, "r", false, "Shorthand for -relocatable.")
	fs.BoolVar(&args.relocatable, "relocatable", false, relocatableHelp)
	fs.StringVar(&args.format, "format", "default", formatHelp)
	fs.StringVar(&args.emulation, "m", "", machineHelp)
	fs.BoolVar(&args.verbose, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&args.verbose, "verbose", false, verboseHelp)

	fs.Usage = func() {
		fs.PrintDefaults()
	}
	args.fs = fs

	// Flag parsing stops at the first non-flag argument; everything from
	// there on is the ordered input list.
	err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("GLINK"),
	)
	if err != nil {
		return nil, err
	}
	args.rest = fs.Args()

	if args.format != "default" && args.format != "binary" {
		return nil, fmt.Errorf("unknown input format: %s", args.format)
	}
	return &args, nil
}

// config builds the ingestion configuration from the parsed flags.
func (args *arguments) config() (ldfile.Config, error) {
	cfg := ldfile.Config{
		Optimize:    args.optimize,
		Relocatable: args.relocatable,
	}
	switch {
	case args.stripAll:
		cfg.Strip = ldfile.StripAll
	case args.stripDebug:
		cfg.Strip = ldfile.StripDebug
	}
	if args.emulation != "" {
		em, ok := emulations[args.emulation]
		if !ok {
			return cfg, fmt.Errorf("unknown emulation: %s", args.emulation)
		}
		cfg.Machine = em.machine
		cfg.Variant = em.variant
	}
	return cfg, nil
}

// findLibrary resolves -lfoo against the search path, preferring the shared
// flavor the way the system linker does.
func (args *arguments) findLibrary(name string) (string, error) {
	for _, dir := range args.libPaths {
		for _, candidate := range []string{"lib" + name + ".so", "lib" + name + ".a"} {
			path := dir + "/" + candidate
			if st, err := os.Stat(path); err == nil && !st.IsDir() {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("unable to find library -l%s", name)
}
