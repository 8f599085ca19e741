package amber_test

import (
	"context"
	"testing"

	"github.com/AndrewDonelson/amber"
)

// ── helpers ───────────────────────────────────────────────────────────────────

// benchMachine approximates a real capture: a register file plus 64 KiB of
// memory.
type benchMachine struct {
	CPU cpuState
	RAM ramState
}

func (m *benchMachine) SerializeState(a *amber.Archive, version int) {
	a.Serialize("cpu", &m.CPU)
	a.Serialize("ram", &m.RAM)
}

func newBenchMachine() *benchMachine {
	m := &benchMachine{
		CPU: cpuState{PC: 0x38AF, SP: 0xF380, Cycles: 123456789},
		RAM: ramState{Data: make([]byte, 65536)},
	}
	for i := range m.RAM.Data {
		m.RAM.Data[i] = byte(i)
	}
	return m
}

func benchSave(b *testing.B, format amber.Format, m *benchMachine) []byte {
	b.Helper()
	var a *amber.Archive
	if format == amber.FormatBinary {
		a = amber.NewBinarySaver()
	} else {
		a = amber.NewPortableSaver()
	}
	a.Serialize("machine", m)
	data, err := a.Bytes()
	if err != nil {
		b.Fatal(err)
	}
	_ = a.Close()
	return data
}

// ── Archive benchmarks ────────────────────────────────────────────────────────

func BenchmarkArchive_Save_Binary(b *testing.B) {
	m := newBenchMachine()
	b.SetBytes(int64(len(benchSave(b, amber.FormatBinary, m))))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a := amber.NewBinarySaver()
		a.Serialize("machine", m)
		if _, err := a.Bytes(); err != nil {
			b.Fatal(err)
		}
		_ = a.Close()
	}
}

func BenchmarkArchive_Save_Portable(b *testing.B) {
	m := newBenchMachine()
	b.SetBytes(int64(len(benchSave(b, amber.FormatPortable, m))))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a := amber.NewPortableSaver()
		a.Serialize("machine", m)
		if _, err := a.Bytes(); err != nil {
			b.Fatal(err)
		}
		_ = a.Close()
	}
}

func BenchmarkArchive_Load_Binary(b *testing.B) {
	data := benchSave(b, amber.FormatBinary, newBenchMachine())
	out := &benchMachine{RAM: ramState{Data: make([]byte, 65536)}}

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a := amber.NewBinaryLoader(data)
		a.Serialize("machine", out)
		if err := a.Close(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkArchive_Load_Portable(b *testing.B) {
	data := benchSave(b, amber.FormatPortable, newBenchMachine())
	out := &benchMachine{RAM: ramState{Data: make([]byte, 65536)}}

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a, err := amber.NewPortableLoader(data)
		if err != nil {
			b.Fatal(err)
		}
		a.Serialize("machine", out)
		if err := a.Close(); err != nil {
			b.Fatal(err)
		}
	}
}

// ── Container benchmarks ──────────────────────────────────────────────────────

func BenchmarkContainer_SealOpen_Binary(b *testing.B) {
	raw := benchSave(b, amber.FormatBinary, newBenchMachine())

	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sealed := amber.SealBinary(raw)
		if _, err := amber.OpenBinary(sealed); err != nil {
			b.Fatal(err)
		}
	}
}

// ── Crypto benchmarks ─────────────────────────────────────────────────────────

func benchEncryptor(b *testing.B) *amber.AES256GCM {
	b.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	enc, err := amber.NewAES256GCM(key)
	if err != nil {
		b.Fatal(err)
	}
	return enc
}

func BenchmarkAES256GCM_Encrypt(b *testing.B) {
	enc := benchEncryptor(b)
	payload := amber.SealBinary(benchSave(b, amber.FormatBinary, newBenchMachine()))

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := enc.Encrypt(payload); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAES256GCM_Decrypt(b *testing.B) {
	enc := benchEncryptor(b)
	payload := amber.SealBinary(benchSave(b, amber.FormatBinary, newBenchMachine()))
	ciphertext, err := enc.Encrypt(payload)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := enc.Decrypt(ciphertext); err != nil {
			b.Fatal(err)
		}
	}
}

// ── Vault benchmarks ──────────────────────────────────────────────────────────

func BenchmarkVault_Save_Memory(b *testing.B) {
	v, err := amber.NewVault(amber.Config{})
	if err != nil {
		b.Fatal(err)
	}
	defer v.Close()

	ctx := context.Background()
	m := newBenchMachine()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := v.Save(ctx, "bench", m); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVault_Load_Memory(b *testing.B) {
	v, err := amber.NewVault(amber.Config{})
	if err != nil {
		b.Fatal(err)
	}
	defer v.Close()

	ctx := context.Background()
	if _, err := v.Save(ctx, "bench", newBenchMachine()); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		out := &benchMachine{RAM: ramState{Data: make([]byte, 65536)}}
		for pb.Next() {
			if _, err := v.Load(ctx, "bench", out); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// ── Rewind benchmarks ─────────────────────────────────────────────────────────

func BenchmarkRewind_Capture(b *testing.B) {
	r, err := amber.NewRewind(amber.RewindConfig{Capacity: 64})
	if err != nil {
		b.Fatal(err)
	}
	defer r.Close()

	m := newBenchMachine()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.CPU.Cycles++
		if _, err := r.Capture(m); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRewind_Capture_Deduped(b *testing.B) {
	r, err := amber.NewRewind(amber.RewindConfig{Capacity: 64})
	if err != nil {
		b.Fatal(err)
	}
	defer r.Close()

	m := newBenchMachine()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Capture(m); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRewind_Seek(b *testing.B) {
	r, err := amber.NewRewind(amber.RewindConfig{Capacity: 4})
	if err != nil {
		b.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Capture(newBenchMachine()); err != nil {
		b.Fatal(err)
	}
	out := &benchMachine{RAM: ramState{Data: make([]byte, 65536)}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := r.Seek(0, out); err != nil {
			b.Fatal(err)
		}
	}
}
