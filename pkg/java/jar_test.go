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

package java_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/bytecode-sniffer/pkg/java"
)

func writeJar(t *testing.T, entries map[string][]byte) string {
	path := filepath.Join(t.TempDir(), "test.jar")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, content := range entries {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestClassBytesFromJar(t *testing.T) {
	jar := writeJar(t, map[string][]byte{
		"com/example/Foo.class": []byte{0xca, 0xfe, 0xba, 0xbe},
		"META-INF/MANIFEST.MF":  []byte("Manifest-Version: 1.0\n"),
	})

	content, err := java.ClassBytesFromJar(jar, "com.example.Foo")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe, 0xba, 0xbe}, content)

	content, err = java.ClassBytesFromJar(jar, "com/example/Foo")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe, 0xba, 0xbe}, content)

	_, err = java.ClassBytesFromJar(jar, "com.example.Missing")
	assert.Error(t, err)
}

func TestClassNamesInJar(t *testing.T) {
	jar := writeJar(t, map[string][]byte{
		"com/example/Foo.class":     nil,
		"com/example/Foo$Bar.class": nil,
		"resources/data.txt":        nil,
	})

	names, err := java.ClassNamesInJar(jar)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"com.example.Foo", "com.example.Foo$Bar"}, names)
}

func TestReadFileStandardOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	content, err := java.ReadFile(path, java.StandardOpen)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), content)
}
