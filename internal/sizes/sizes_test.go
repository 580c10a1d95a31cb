package sizes

import "testing"

func TestParseVolumeSizePredefined(t *testing.T) {
	cases := map[string]uint64{
		"floppy": 1440000,
		"CD":     650000384,
		"CD-80":  700000256,
		"CDR-80": 700000256,
		"DVD":    4700000256,
		"DVD-5":  4700000256,
		"dvd-5":  4700000256,
	}
	for token, want := range cases {
		got, err := ParseVolumeSize(token)
		if err != nil {
			t.Fatalf("ParseVolumeSize(%q): %v", token, err)
		}
		if got != want {
			t.Fatalf("ParseVolumeSize(%q) = %d, want %d", token, got, want)
		}
	}
}

func TestParseVolumeSizeIntegerKilobytes(t *testing.T) {
	got, err := ParseVolumeSize("1000000")
	if err != nil {
		t.Fatalf("ParseVolumeSize: %v", err)
	}
	if got != 1000000*1024 {
		t.Fatalf("ParseVolumeSize(1000000) = %d, want %d", got, 1000000*1024)
	}
}

func TestParseVolumeSizeDataSizeLiteral(t *testing.T) {
	got, err := ParseVolumeSize("4MB")
	if err != nil {
		t.Fatalf("ParseVolumeSize: %v", err)
	}
	if got != 4*1000*1000 && got != 4*1024*1024 {
		t.Fatalf("ParseVolumeSize(4MB) = %d, unexpected", got)
	}
}

func TestParseVolumeSizeRejectsGarbage(t *testing.T) {
	if _, err := ParseVolumeSize("not-a-size!!"); err == nil {
		t.Fatal("expected error for unrecognized token")
	}
}

func TestBudgetedVolumeSize(t *testing.T) {
	const configured = 1000000 * 1024
	got := BudgetedVolumeSize(configured)
	if got != configured-ReservedTrailer {
		t.Fatalf("BudgetedVolumeSize = %d, want %d", got, configured-ReservedTrailer)
	}

	// Worst-case trailing stretch must fit comfortably inside the
	// reserve: MD5Checksum (3+16) + VolumeEOF (3) + SessionEOF (3) = 25B.
	const worstCaseTrailer = (3 + 16) + 3 + 3
	if ReservedTrailer < worstCaseTrailer {
		t.Fatalf("reserve %d too small for worst-case trailer %d", ReservedTrailer, worstCaseTrailer)
	}
}

func TestBudgetedVolumeSizeFloor(t *testing.T) {
	if got := BudgetedVolumeSize(100); got != 0 {
		t.Fatalf("BudgetedVolumeSize(100) = %d, want 0", got)
	}
}
