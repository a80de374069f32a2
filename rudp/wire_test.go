package rudp

import "testing"

func TestUvarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 255, 256, 65535, 65536, 1 << 40}
	for _, v := range cases {
		buf := putUvarint(nil, v)
		got, n, ok := getUvarint(buf)
		if !ok {
			t.Fatalf("getUvarint(%v) failed to parse", buf)
		}
		if n != len(buf) {
			t.Fatalf("value %d: consumed %d, want %d", v, n, len(buf))
		}
		if got != v {
			t.Fatalf("value %d round-tripped as %d", v, got)
		}
	}
}

func TestEncodeDecodeDatagramRoundTrip(t *testing.T) {
	key := sendKey([]byte("alice"), []byte("bob"))
	hdr := segmentHeader{Flags: FlagClose, Seq: 42, Ack: 7, Win: 1024, Data: []byte("hello world")}
	pkt, err := encodeDatagram(hdr, key)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(pkt) > MaxDatagram {
		t.Fatalf("encoded datagram %d exceeds MaxDatagram", len(pkt))
	}
	got, ok := decodeDatagram(pkt, key)
	if !ok {
		t.Fatalf("decode failed")
	}
	if got.Flags != hdr.Flags || got.Seq != hdr.Seq || got.Ack != hdr.Ack || got.Win != hdr.Win {
		t.Fatalf("decoded header mismatch: %+v vs %+v", got, hdr)
	}
	if string(got.Data) != string(hdr.Data) {
		t.Fatalf("decoded data mismatch: %q vs %q", got.Data, hdr.Data)
	}
}

func TestDecodeDatagramRejectsTamperedHMAC(t *testing.T) {
	key := sendKey([]byte("alice"), []byte("bob"))
	hdr := segmentHeader{Seq: 1, Data: []byte("x")}
	pkt, err := encodeDatagram(hdr, key)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pkt[len(pkt)-1] ^= 0xff
	if _, ok := decodeDatagram(pkt, key); ok {
		t.Fatalf("expected tampered datagram to be rejected")
	}
}

func TestDecodeDatagramRejectsShortLength(t *testing.T) {
	if _, ok := decodeDatagram(make([]byte, HMACSize), nil); ok {
		t.Fatalf("expected a datagram of length <= HMACSize to be rejected")
	}
}

func TestRoleAsymmetricKeys(t *testing.T) {
	local, peer := []byte("secretA"), []byte("secretB")
	if string(sendKey(local, peer)) == string(recvKey(local, peer)) {
		t.Fatalf("send/recv keys must differ for asymmetric roles")
	}
	// what A sends with must equal what B receives with, and vice versa.
	if string(sendKey(local, peer)) != string(recvKey(peer, local)) {
		t.Fatalf("A's send key must equal B's recv key")
	}
}
