package caip

import "testing"

func TestParseChainIDRoundTrip(t *testing.T) {
	cases := []string{"eip155:1", "bip122:000000000019d6689c085ae165831e93", "solana:mainnet-beta", "cosmos:cosmoshub-4"}
	for _, s := range cases {
		id, err := ParseChainID(s)
		if err != nil {
			t.Fatalf("ParseChainID(%q): %v", s, err)
		}
		if id.String() != s {
			t.Fatalf("round-trip mismatch: got %q want %q", id.String(), s)
		}
		if _, err := ParseChainID(id.String()); err != nil {
			t.Fatalf("re-parse failed: %v", err)
		}
	}
}

func TestParseChainIDInvalid(t *testing.T) {
	cases := []string{"", "eip155", "e:1", "eip155:", "eip!155:1"}
	for _, s := range cases {
		if _, err := ParseChainID(s); err == nil {
			t.Fatalf("ParseChainID(%q): expected error", s)
		}
	}
}

func TestParseAccountIDEip155(t *testing.T) {
	s := "eip155:1:0xab16a96d359ec26a11e2c2b3d8f8b8942d5bfcdb"
	acc, err := ParseAccountID(s)
	if err != nil {
		t.Fatalf("ParseAccountID(%q): %v", s, err)
	}
	if acc.String() != s {
		t.Fatalf("round-trip mismatch: got %q want %q", acc.String(), s)
	}
}

func TestParseAccountIDEip155Invalid(t *testing.T) {
	s := "eip155:1:not-an-address"
	if _, err := ParseAccountID(s); err == nil {
		t.Fatalf("expected error for invalid eip155 address %q", s)
	}
}

func TestParseAccountIDEip155ValidChecksum(t *testing.T) {
	// A canonical EIP-55 test vector.
	s := "eip155:1:0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	if _, err := ParseAccountID(s); err != nil {
		t.Fatalf("ParseAccountID(%q): %v", s, err)
	}
}

func TestParseAccountIDEip155BadChecksum(t *testing.T) {
	// Same address as above with one letter's case flipped: still matches
	// the shape regex, but fails the EIP-55 checksum.
	s := "eip155:1:0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	if _, err := ParseAccountID(s); err == nil {
		t.Fatalf("expected checksum failure for %q", s)
	}
}

func TestParseAssetIDRoundTrip(t *testing.T) {
	s := "eip155:1/erc20:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	id, err := ParseAssetID(s)
	if err != nil {
		t.Fatalf("ParseAssetID(%q): %v", s, err)
	}
	if id.String() != s {
		t.Fatalf("round-trip mismatch: got %q want %q", id.String(), s)
	}
}

func TestParseAssetIDMalformed(t *testing.T) {
	cases := []string{"eip155:1:erc20:0xabc", "eip155:1/erc20", "eip155:1/bad_ns!:0xabc"}
	for _, s := range cases {
		if _, err := ParseAssetID(s); err == nil {
			t.Fatalf("ParseAssetID(%q): expected error", s)
		}
	}
}

func TestUnknownNamespaceAcceptedStructurally(t *testing.T) {
	s := "hedera:mainnet:0.0.1234"
	if _, err := ParseAccountID(s); err != nil {
		t.Fatalf("expected unknown namespace to pass structurally: %v", err)
	}
}
