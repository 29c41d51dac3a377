// Copyright 2024 dage Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataset

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dage-io/dage/base/log"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// ReadLines parse fields of each line for csv file.
func ReadLines(sc *bufio.Scanner, sep string, handler func(int, []string) bool) error {
	lineCount := 0               // line number of current position
	fields := make([]string, 0)  // fields for current line
	builder := strings.Builder{} // string builder for current field
	quoted := false              // whether current position in quote
	for sc.Scan() {
		line := []rune(sc.Text())
		if quoted {
			builder.WriteString("\r\n")
		}
		for i := 0; i < len(line); i++ {
			if string(line[i]) == sep && !quoted {
				// end of field
				fields = append(fields, builder.String())
				builder.Reset()
			} else if line[i] == '"' {
				if quoted {
					if i+1 >= len(line) || line[i+1] != '"' {
						// end of quoted
						quoted = false
					} else {
						i++
						builder.WriteRune('"')
					}
				} else {
					// start of quoted
					quoted = true
				}
			} else {
				builder.WriteRune(line[i])
			}
		}
		// end of line
		if !quoted {
			fields = append(fields, builder.String())
			builder.Reset()
			if !handler(lineCount, fields) {
				return nil
			}
			fields = []string{}
		}
		lineCount++
	}
	return sc.Err()
}

// LoadCSV loads a domain from rows of features followed by a class name. A
// first row whose leading field is not a number is treated as a header. Blank
// rows and rows starting with # are skipped.
func LoadCSV(path, sep string) (*Domain, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()

	var (
		features [][]float32
		names    []string
		dim      = -1
		parseErr error
	)
	err = ReadLines(bufio.NewScanner(file), sep, func(lineNumber int, fields []string) bool {
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" || strings.HasPrefix(fields[0], "#") {
			return true
		}
		if len(fields) < 2 {
			parseErr = errors.NotValidf("line %d of %s with %d fields", lineNumber+1, path, len(fields))
			return false
		}
		row := make([]float32, len(fields)-1)
		for i, field := range fields[:len(fields)-1] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil {
				if i == 0 && len(features) == 0 && dim < 0 {
					// header
					dim = len(row)
					return true
				}
				parseErr = errors.Annotatef(err, "line %d of %s", lineNumber+1, path)
				return false
			}
			row[i] = float32(v)
		}
		if dim >= 0 && len(row) != dim {
			parseErr = errors.NotValidf("line %d of %s with %d features (expected %d)", lineNumber+1, path, len(row), dim)
			return false
		}
		dim = len(row)
		features = append(features, row)
		names = append(names, strings.TrimSpace(fields[len(fields)-1]))
		return true
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	if len(features) == 0 {
		return nil, errors.NotValidf("empty dataset %s", path)
	}

	classNames := sortClassNames(mapset.NewSet(names...).ToSlice())
	index := make(map[string]int, len(classNames))
	for i, name := range classNames {
		index[name] = i
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	domain := NewDomain(name, dim, classNames)
	for i, row := range features {
		if err = domain.Add(row, index[names[i]]); err != nil {
			return nil, errors.Trace(err)
		}
	}
	log.Logger().Info("load domain",
		zap.String("path", path),
		zap.Int("n_samples", domain.Count()),
		zap.Int("n_features", domain.Dim()),
		zap.Int("n_classes", domain.NumClasses()))
	return domain, nil
}
