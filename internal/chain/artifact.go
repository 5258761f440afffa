// File: internal/chain/artifact.go
// Brief: Compiled contract artifacts (Hardhat or Foundry layout) and library linking.

package chain

import (
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// LinkRef is a byte range in creation bytecode reserved for a library address.
type LinkRef struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// Artifact is the subset of a compiler artifact needed to deploy a contract.
type Artifact struct {
	Name string
	ABI  abi.ABI
	// Bytecode is hex without the 0x prefix, placeholders intact.
	Bytecode string
	// LinkReferences maps source file -> library name -> placeholder ranges.
	LinkReferences map[string]map[string][]LinkRef
}

type rawArtifact struct {
	ContractName   string                          `json:"contractName"`
	ABI            json.RawMessage                 `json:"abi"`
	Bytecode       json.RawMessage                 `json:"bytecode"`
	LinkReferences map[string]map[string][]LinkRef `json:"linkReferences"`
}

// ParseArtifact decodes a Hardhat artifact (bytecode as a string) or a Foundry
// artifact (bytecode as {object, linkReferences}).
func ParseArtifact(name string, raw []byte) (*Artifact, error) {
	var doc rawArtifact
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse artifact %s", name)
	}
	if len(doc.ABI) == 0 {
		return nil, errors.Errorf("artifact %s: missing abi", name)
	}
	parsed, err := abi.JSON(strings.NewReader(string(doc.ABI)))
	if err != nil {
		return nil, errors.Wrapf(err, "artifact %s: parse abi", name)
	}
	a := &Artifact{Name: name, ABI: parsed, LinkReferences: doc.LinkReferences}
	if doc.ContractName != "" {
		a.Name = doc.ContractName
	}

	var code string
	if err := json.Unmarshal(doc.Bytecode, &code); err != nil {
		var foundry struct {
			Object         string                          `json:"object"`
			LinkReferences map[string]map[string][]LinkRef `json:"linkReferences"`
		}
		if ferr := json.Unmarshal(doc.Bytecode, &foundry); ferr != nil {
			return nil, errors.Wrapf(ferr, "artifact %s: bytecode", name)
		}
		code = foundry.Object
		if len(a.LinkReferences) == 0 {
			a.LinkReferences = foundry.LinkReferences
		}
	}
	a.Bytecode = strings.TrimPrefix(strings.TrimSpace(code), "0x")
	if a.Bytecode == "" {
		return nil, errors.Errorf("artifact %s: empty bytecode (abstract contract or interface?)", name)
	}
	return a, nil
}

// Libraries returns the names of libraries that must be linked, sorted.
func (a *Artifact) Libraries() []string {
	seen := map[string]struct{}{}
	for _, libs := range a.LinkReferences {
		for lib := range libs {
			seen[lib] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for lib := range seen {
		out = append(out, lib)
	}
	sort.Strings(out)
	return out
}

// Link substitutes library addresses into the bytecode and decodes it.
// Every referenced library must be supplied.
func (a *Artifact) Link(libraries map[string]string) ([]byte, error) {
	code := []byte(a.Bytecode)
	for _, libs := range a.LinkReferences {
		for lib, refs := range libs {
			addr, ok := libraries[lib]
			if !ok || !common.IsHexAddress(addr) {
				return nil, errors.Errorf("artifact %s: library %s is not linked", a.Name, lib)
			}
			hexAddr := strings.ToLower(strings.TrimPrefix(common.HexToAddress(addr).Hex(), "0x"))
			for _, ref := range refs {
				start, end := ref.Start*2, (ref.Start+ref.Length)*2
				if ref.Length != common.AddressLength || start < 0 || end > len(code) {
					return nil, errors.Errorf("artifact %s: invalid link reference for %s at %d+%d", a.Name, lib, ref.Start, ref.Length)
				}
				copy(code[start:end], hexAddr)
			}
		}
	}
	out, err := hex.DecodeString(string(code))
	if err != nil {
		return nil, errors.Wrapf(err, "artifact %s: decode bytecode", a.Name)
	}
	return out, nil
}

// Artifacts locates artifacts by contract name under a build directory.
type Artifacts struct {
	Root string

	mu    sync.Mutex
	index map[string]string
	cache map[string]*Artifact
}

func NewArtifacts(root string) *Artifacts {
	return &Artifacts{Root: root, cache: map[string]*Artifact{}}
}

// Get loads the artifact for a contract name, e.g. "PoolFactory" resolves to
// artifacts/contracts/factories/PoolFactory.sol/PoolFactory.json.
func (s *Artifacts) Get(name string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.cache[name]; ok {
		return a, nil
	}
	if s.index == nil {
		if err := s.buildIndex(); err != nil {
			return nil, err
		}
	}
	path, ok := s.index[name]
	if !ok {
		return nil, errors.Errorf("artifact %s not found under %s (compile the contracts first)", name, s.Root)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read artifact %s", path)
	}
	a, err := ParseArtifact(name, raw)
	if err != nil {
		return nil, err
	}
	s.cache[name] = a
	return a, nil
}

func (s *Artifacts) buildIndex() error {
	index := map[string]string{}
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		base := d.Name()
		if !strings.HasSuffix(base, ".json") || strings.HasSuffix(base, ".dbg.json") {
			return nil
		}
		name := strings.TrimSuffix(base, ".json")
		if prev, dup := index[name]; dup {
			return errors.Errorf("artifact name %s is ambiguous: %s and %s", name, prev, path)
		}
		index[name] = path
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "index artifacts under %s", s.Root)
	}
	s.index = index
	return nil
}
