// Package facts reads and writes fact directories: one file per relation,
// tab-separated fields, one tuple per line, no header.
package facts

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extensions recognised as fact files, in lookup order.
var Extensions = []string{".facts", ".csv"}

// Tuple is one row of a relation.
type Tuple []string

// Relation is the tuples of one predicate.
type Relation struct {
	Name   string
	Tuples []Tuple
}

// Read parses tab-separated tuples. Fields are taken verbatim; no quoting
// is recognised.
func Read(r io.Reader) ([]Tuple, error) {
	var out []Tuple
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			continue
		}
		out = append(out, Tuple(strings.Split(line, "\t")))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Write emits tuples in the format Read accepts.
func Write(w io.Writer, tuples []Tuple) error {
	bw := bufio.NewWriter(w)
	for _, t := range tuples {
		for i, f := range t {
			if strings.ContainsAny(f, "\t\n") {
				return fmt.Errorf("field %q contains a tab or newline", f)
			}
			if i > 0 {
				bw.WriteByte('\t')
			}
			bw.WriteString(f)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// FindFile returns the path of name's fact file in dir. ok is false when
// no file with a recognised extension exists.
func FindFile(dir, name string) (path string, ok bool) {
	for _, ext := range Extensions {
		p := filepath.Join(dir, name+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// ReadRelation loads name from dir. A missing file is an empty relation.
func ReadRelation(dir, name string) ([]Tuple, error) {
	path, ok := FindFile(dir, name)
	if !ok {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tuples, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return tuples, nil
}

// IsEmpty reports whether relation name in dir has no tuples. A missing
// file counts as empty.
func IsEmpty(dir, name string) (bool, error) {
	tuples, err := ReadRelation(dir, name)
	if err != nil {
		return false, err
	}
	return len(tuples) == 0, nil
}

// ReadDir loads every fact file in dir, sorted by relation name. When a
// relation has both a .facts and a .csv file the .facts file wins.
func ReadDir(dir string) ([]Relation, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list fact dir %s: %w", dir, err)
	}
	names := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, ext := range Extensions {
			if strings.HasSuffix(e.Name(), ext) {
				names[strings.TrimSuffix(e.Name(), ext)] = true
			}
		}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	out := make([]Relation, 0, len(sorted))
	for _, n := range sorted {
		tuples, err := ReadRelation(dir, n)
		if err != nil {
			return nil, err
		}
		out = append(out, Relation{Name: n, Tuples: tuples})
	}
	return out, nil
}

// WriteRelation writes tuples to dir/name+ext.
func WriteRelation(dir, name, ext string, tuples []Tuple) error {
	path := filepath.Join(dir, name+ext)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, tuples); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// CopyDir copies the fact files of src into dst, which must exist.
func CopyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to list fact dir %s: %w", src, err)
	}
	for _, e := range entries {
		if e.IsDir() || !isFactFile(e.Name()) {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// EnsureRelations gives every name a .facts file in dir, the only
// extension Soufflé reads for inputs. A .csv relation is copied to its
// .facts name; a relation with no file gets an empty one.
func EnsureRelations(dir string, names []string) error {
	for _, n := range names {
		dst := filepath.Join(dir, n+".facts")
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		src, ok := FindFile(dir, n)
		if ok {
			if err := copyFile(src, dst); err != nil {
				return err
			}
			continue
		}
		if err := os.WriteFile(dst, nil, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func isFactFile(name string) bool {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
