// Copyright (c) 2022 Palantir Technologies. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package java

import (
	"archive/zip"
	"bytes"
	md52 "crypto/md5"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ncw/directio"
	"github.com/pkg/errors"
)

// FileOpenMode is the behaviour used when opening a file on disk.
type FileOpenMode bool

const (
	// StandardOpen opens files using read only flags.
	StandardOpen FileOpenMode = false
	// DirectIOOpen opens files using flags that allow for direct i/o,
	// skipping the filesystem cache.
	DirectIOOpen FileOpenMode = true
)

// ReadFile reads a whole file using the given open mode. Files smaller
// than a direct-i/o block are always read through the standard path.
func ReadFile(path string, mode FileOpenMode) ([]byte, error) {
	if mode == StandardOpen {
		return os.ReadFile(path)
	}
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if stat.Size() < int64(directio.BlockSize) {
		return os.ReadFile(path)
	}
	f, err := directio.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	var out bytes.Buffer
	block := directio.AlignedBlock(directio.BlockSize)
	for {
		n, err := io.ReadFull(f, block)
		if n > 0 {
			out.Write(block[:n])
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if int64(out.Len()) > stat.Size() {
		out.Truncate(int(stat.Size()))
	}
	return out.Bytes(), nil
}

// ClassBytesFromJar reads the class file for the given dotted or slashed
// class name out of a jar.
func ClassBytesFromJar(jarFile, className string) ([]byte, error) {
	r, err := zip.OpenReader(jarFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open jar %s", jarFile)
	}
	defer func() {
		_ = r.Close()
	}()

	classLocation := strings.ReplaceAll(className, ".", "/")
	c, err := r.Open(classLocation + ".class")
	if err != nil {
		return nil, errors.Wrapf(err, "class %s not present in %s", className, jarFile)
	}
	defer func() {
		_ = c.Close()
	}()
	return io.ReadAll(c)
}

// ClassNamesInJar lists the dotted names of the classes inside a jar.
func ClassNamesInJar(jarFile string) ([]string, error) {
	r, err := zip.OpenReader(jarFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open jar %s", jarFile)
	}
	defer func() {
		_ = r.Close()
	}()

	var names []string
	for _, f := range r.File {
		if strings.HasSuffix(f.Name, ".class") {
			name := strings.TrimSuffix(f.Name, ".class")
			names = append(names, strings.ReplaceAll(name, "/", "."))
		}
	}
	return names, nil
}

// ClassHash identifies one version of a class.
type ClassHash struct {
	ClassSize               int
	CompleteHash            string
	BytecodeInstructionHash string
}

// HashClass produces the complete-file and instruction-only hashes for a
// class inside a jar.
func HashClass(jarFile string, className string) (ClassHash, error) {
	classBytes, err := ClassBytesFromJar(jarFile, className)
	if err != nil {
		return ClassHash{}, err
	}
	return HashClassBytes(classBytes)
}

// HashClassBytes produces the complete-file and instruction-only hashes
// for raw class bytes.
func HashClassBytes(classBytes []byte) (ClassHash, error) {
	bytecodeHash, err := HashClassInstructions(classBytes)
	if err != nil {
		return ClassHash{}, err
	}
	return ClassHash{
		ClassSize:               len(classBytes),
		CompleteHash:            fmt.Sprintf("%x", md52.Sum(classBytes)),
		BytecodeInstructionHash: bytecodeHash,
	}, nil
}
