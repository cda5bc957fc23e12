// Package memacc implements the object-file/section loader contract the
// decoder consumes (spec §6): enumerate sections, find the section
// containing a given VMA, and fetch section bytes into a flat buffer.
// Grounded on the teacher's common.MemoryAccessor /
// common.MemoryAccessorMapper overlap-checked range map
// (common/mem_acc.go, common/mem_acc_mapper.go).
package memacc

import "rvtrace/errs"

// Accessor reads raw bytes at an address range, e.g. one ELF/object-file
// section loaded into memory.
type Accessor interface {
	ReadMemory(addr uint64, data []byte) (int, error)
}

// Section is one loadable program section: its virtual base address,
// size in octets, and backing bytes.
type Section struct {
	Name  string
	Base  uint64
	Bytes []byte
}

func (s *Section) Size() uint64 { return uint64(len(s.Bytes)) }

func (s *Section) Contains(addr uint64) bool {
	return addr >= s.Base && addr < s.Base+s.Size()
}

func (s *Section) ReadMemory(addr uint64, data []byte) (int, error) {
	if !s.Contains(addr) {
		return 0, errs.Newf(errs.BadVMA, "addr 0x%x outside section %q [0x%x,0x%x)", addr, s.Name, s.Base, s.Base+s.Size())
	}
	off := addr - s.Base
	n := copy(data, s.Bytes[off:])
	if n == 0 {
		return 0, errs.New(errs.SectionEmpty, "section read returned no bytes")
	}
	return n, nil
}

// Image is the object-file's set of loaded sections, the decoder's view
// of "the program binary" from spec §1.
type Image struct {
	Entry    uint64
	Sections []*Section
}

// SectionAt returns the section containing addr, or an error if none of
// the loaded sections cover it (spec §4.6/§7: bad_vma).
func (img *Image) SectionAt(addr uint64) (*Section, error) {
	for _, s := range img.Sections {
		if s.Contains(addr) {
			return s, nil
		}
	}
	return nil, errs.Newf(errs.BadVMA, "no loaded section contains pc=0x%x", addr)
}

// ReadMemory implements Accessor by locating and delegating to the
// covering section.
func (img *Image) ReadMemory(addr uint64, data []byte) (int, error) {
	s, err := img.SectionAt(addr)
	if err != nil {
		return 0, err
	}
	return s.ReadMemory(addr, data)
}
