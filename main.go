// NN-512 (https://NN-512.com)
//
// Copyright (C) 2019 [
//     37ef ced3 3727 60b4
//     3c29 f9c6 dc30 d518
//     f4f3 4106 6964 cab4
//     a06f c1a3 83fd 090e
// ]
//
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in
//    the documentation and/or other materials provided with the
//    distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
// "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
// LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
// A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
// HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
// LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"igemmgen/internal/compile"
	"igemmgen/internal/doc"
	"igemmgen/internal/example"
	"igemmgen/internal/version"
)

const (
	newline = "\n"
	space   = " "
	indent  = space + space + space + space
	usage   = newline + "Usage:" + newline + newline + indent + "igemmgen [FLAGS]" + space
)

// args is the command word and its operands, after the flags.
var args []string

func cmdCompile() error {
	if len(args) == 3 {
		from := args[1]
		if from == "-" {
			from = "/dev/stdin"
		}
		text, err := os.ReadFile(from)
		if err != nil {
			return err
		}
		result, err := compile.Compile(string(text))
		if err != nil {
			return err
		}
		prefix := filepath.Join(args[2], result.Name)
		const perm os.FileMode = 0666
		if err := os.WriteFile(prefix+".s", result.Asm, perm); err != nil {
			return err
		}
		klog.V(1).Infof("wrote %s.s and %s.json", prefix, prefix)
		return os.WriteFile(prefix+".json", result.JSON, perm)
	}
	return errors.New(usage +
		args[0] + space + "CONFIG" + space + "DIR" + newline +
		newline +
		"The CONFIG argument specifies an input file that contains a" + newline +
		"config language description of convolution kernels. - means" + newline +
		"stdin." + newline +
		newline +
		indent + "Example: fwd.config" + newline +
		indent + "Example: ../configs/gfx908" + newline +
		indent + "Example: -" + newline +
		newline +
		"The DIR argument specifies an output directory where the" + newline +
		"generated assembly and kernel descriptors will be written." + newline +
		newline +
		indent + "Example: ." + newline +
		indent + "Example: ../out" + newline +
		indent + "Example: /tmp/" + newline)
}

func cmdDoc() error {
	if len(args) > 1 {
		return errors.New(usage + args[0] + newline)
	}
	_, err := os.Stdout.Write(doc.Bytes())
	return err
}

func cmdExample() error {
	if len(args) == 2 {
		if gen := example.Generate(args[1]); gen != nil {
			_, err := os.Stdout.Write(gen)
			return err
		}
	}
	list := strings.Join(example.Names(), newline+indent)
	return errors.New(usage +
		args[0] + space + "NAME" + newline +
		newline +
		"The NAME argument can be:" + newline +
		newline +
		indent + list + newline)
}

func cmdVersion() error {
	if len(args) > 1 {
		return errors.New(usage + args[0] + newline)
	}
	_, err := os.Stdout.WriteString(
		strconv.Itoa(version.Int) + newline,
	)
	return err
}

var cmds = [...]struct {
	name string
	hint string
	call func() error
}{
	{"compile", "Read kernel configs and write AMDGPU assembly.", cmdCompile},
	{"doc", "Write documentation for the config language to stdout.", cmdDoc},
	{"example", "Write an example config to stdout.", cmdExample},
	{"version", "Write the version number of this program to stdout.", cmdVersion},
}

func run() error {
	fs := flag.NewFlagSet("igemmgen", flag.ContinueOnError)
	klog.InitFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	args = fs.Args()
	if len(args) >= 1 {
		arg := args[0]
		for i := range &cmds {
			if cmds[i].name == arg {
				return cmds[i].call()
			}
		}
	}
	max := 0
	for i := range &cmds {
		if alt := len(cmds[i].name); max < alt {
			max = alt
		}
	}
	tot := max + len(indent)
	var list string
	for i := range &cmds {
		name, hint := cmds[i].name, cmds[i].hint
		align := strings.Repeat(space, tot-len(name))
		list += indent + name + align + hint + newline
	}
	return errors.New(usage +
		"COMMAND" + newline +
		newline +
		"The COMMAND argument can be:" + newline +
		newline +
		list)
}

func main() {
	err := run()
	klog.Flush()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + newline)
		os.Exit(1)
	}
	os.Exit(0)
}

var _ uint = 1 << 63
