package dot

import (
	"testing"

	"bcc/internal/arch"
	"bcc/internal/cfganalysis"
	"bcc/internal/stmt"
)

func TestRoundTripEmpty(t *testing.T) {
	cfg := cfganalysis.New(nil, arch.NewAMD64())
	doc := Serialize(cfg)
	got, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Len() != cfg.Len() {
		t.Errorf("Len() = %d, want %d", got.Len(), cfg.Len())
	}
}

func TestRoundTrip(t *testing.T) {
	stmts := []stmt.Statement{
		stmt.New(0x61E, stmt.UNK, "push rbp"),
		stmt.New(0x622, stmt.UNK, "mov dword [var_4h], edi"),
		stmt.New(0x628, stmt.UNK, "cmp dword [var_4h], 5"),
		stmt.New(0x62C, stmt.UNK, "jne 0x633"),
		stmt.New(0x62E, stmt.UNK, "mov eax, dword [var_8h]"),
		stmt.New(0x631, stmt.UNK, "jmp 0x638"),
		stmt.New(0x633, stmt.UNK, "mov eax, 6"),
		stmt.New(0x638, stmt.UNK, "pop rbp"),
		stmt.New(0x639, stmt.UNK, "ret"),
	}
	cfg := cfganalysis.New(stmts, arch.NewAMD64())
	doc := Serialize(cfg)
	got, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Len() != cfg.Len() {
		t.Errorf("Len() = %d, want %d", got.Len(), cfg.Len())
	}
	root, ok := got.Root()
	wantRoot, _ := cfg.Root()
	if !ok || root != wantRoot {
		t.Errorf("Root() = %+v, want %+v", root, wantRoot)
	}
}

func TestRoundTripWithEntryAndSink(t *testing.T) {
	stmts := []stmt.Statement{
		stmt.New(0x61C, stmt.UNK, "mov eax, 5"),
		stmt.New(0x620, stmt.UNK, "je 0x628"),
		stmt.New(0x624, stmt.UNK, "ret"),
		stmt.New(0x628, stmt.UNK, "mov eax, 6"),
		stmt.New(0x62C, stmt.UNK, "ret"),
	}
	cfg := cfganalysis.New(stmts, arch.NewAMD64()).AddSink()
	doc := Serialize(cfg)
	got, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Len() != cfg.Len() {
		t.Errorf("Len() = %d, want %d", got.Len(), cfg.Len())
	}
}

func TestParseMalformedMissingHeader(t *testing.T) {
	if _, err := Parse("not a digraph\n"); err == nil {
		t.Error("expected error for missing digraph header")
	}
}
