// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"bytes"
	"errors"
	"testing"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/channel"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/identity"
)

type testPair struct {
	client *identity.KeyBundle
	server *identity.KeyBundle
	peers  identity.AuthorizedSet
}

func newTestPair(t *testing.T) testPair {
	t.Helper()
	client, err := identity.Generate()
	if err != nil {
		t.Fatalf("generating client identity: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	server, err := identity.Generate()
	if err != nil {
		t.Fatalf("generating server identity: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	return testPair{
		client: client,
		server: server,
		peers: identity.AuthorizedSet{
			{Alias: "agent/research", Keys: client.Public},
		},
	}
}

func TestFullExchange(t *testing.T) {
	pair := newTestPair(t)

	initiator := NewInitiator(pair.client, pair.server.Public)
	init, err := initiator.CreateInit()
	if err != nil {
		t.Fatalf("CreateInit: %v", err)
	}

	responder := NewResponder(pair.server, pair.peers)
	reply, established, err := responder.ProcessInit(*init)
	if err != nil {
		t.Fatalf("ProcessInit: %v", err)
	}
	if established.Peer.Alias != "agent/research" {
		t.Errorf("attributed alias = %q", established.Peer.Alias)
	}

	clientKeys, clientSessionID, err := initiator.ProcessReply(*reply)
	if err != nil {
		t.Fatalf("ProcessReply: %v", err)
	}
	if clientSessionID != established.SessionID {
		t.Errorf("session IDs diverge: client %q, server %q", clientSessionID, established.SessionID)
	}
	if !bytes.Equal(clientKeys.ClientToServer, established.Keys.ClientToServer) {
		t.Error("client-to-server keys diverge")
	}
	if !bytes.Equal(clientKeys.ServerToClient, established.Keys.ServerToClient) {
		t.Error("server-to-client keys diverge")
	}
	if bytes.Equal(clientKeys.ClientToServer, clientKeys.ServerToClient) {
		t.Error("directional keys must differ")
	}

	// Confirmation round trip through real channels.
	clientChannel, err := channel.New(clientKeys, channel.RoleClient)
	if err != nil {
		t.Fatalf("client channel: %v", err)
	}
	serverChannel, err := channel.New(established.Keys, channel.RoleServer)
	if err != nil {
		t.Fatalf("server channel: %v", err)
	}

	finish, err := BuildFinish(clientChannel, clientSessionID)
	if err != nil {
		t.Fatalf("BuildFinish: %v", err)
	}
	plaintext, err := serverChannel.Decrypt(finish.Frame)
	if err != nil {
		t.Fatalf("decrypting confirmation: %v", err)
	}
	if err := VerifyConfirm(plaintext, established.SessionID); err != nil {
		t.Fatalf("VerifyConfirm: %v", err)
	}
}

func TestUnknownSignerRejected(t *testing.T) {
	pair := newTestPair(t)

	intruder, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	defer intruder.Close()

	initiator := NewInitiator(intruder, pair.server.Public)
	init, err := initiator.CreateInit()
	if err != nil {
		t.Fatal(err)
	}

	responder := NewResponder(pair.server, pair.peers)
	_, _, err = responder.ProcessInit(*init)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
}

func TestTamperedInitRejected(t *testing.T) {
	pair := newTestPair(t)

	initiator := NewInitiator(pair.client, pair.server.Public)
	init, err := initiator.CreateInit()
	if err != nil {
		t.Fatal(err)
	}
	init.Nonce[0] ^= 0x01

	responder := NewResponder(pair.server, pair.peers)
	if _, _, err := responder.ProcessInit(*init); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
}

func TestWrongResponderRejected(t *testing.T) {
	pair := newTestPair(t)

	impostor, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	defer impostor.Close()

	// Client expects pair.server but the impostor answers.
	initiator := NewInitiator(pair.client, pair.server.Public)
	init, err := initiator.CreateInit()
	if err != nil {
		t.Fatal(err)
	}

	impostorResponder := NewResponder(impostor, pair.peers)
	reply, _, err := impostorResponder.ProcessInit(*init)
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := initiator.ProcessReply(*reply); !errors.Is(err, ErrReplyRejected) {
		t.Fatalf("err = %v, want ErrReplyRejected", err)
	}
}

func TestReplayedInitYieldsDistinctSession(t *testing.T) {
	// Replaying a captured Init is harmless: the responder contributes
	// a fresh ephemeral key and nonce, so the derived session has
	// different keys the replayer cannot compute without the original
	// ephemeral private key.
	pair := newTestPair(t)

	initiator := NewInitiator(pair.client, pair.server.Public)
	init, err := initiator.CreateInit()
	if err != nil {
		t.Fatal(err)
	}

	responder := NewResponder(pair.server, pair.peers)
	_, first, err := responder.ProcessInit(*init)
	if err != nil {
		t.Fatal(err)
	}
	_, second, err := responder.ProcessInit(*init)
	if err != nil {
		t.Fatal(err)
	}

	if first.SessionID == second.SessionID {
		t.Error("replayed init produced the same session ID")
	}
	if bytes.Equal(first.Keys.ClientToServer, second.Keys.ClientToServer) {
		t.Error("replayed init produced the same keys")
	}
}

func TestConfirmWrongSessionRejected(t *testing.T) {
	pair := newTestPair(t)

	initiator := NewInitiator(pair.client, pair.server.Public)
	init, err := initiator.CreateInit()
	if err != nil {
		t.Fatal(err)
	}
	responder := NewResponder(pair.server, pair.peers)
	reply, established, err := responder.ProcessInit(*init)
	if err != nil {
		t.Fatal(err)
	}
	clientKeys, sessionID, err := initiator.ProcessReply(*reply)
	if err != nil {
		t.Fatal(err)
	}

	clientChannel, err := channel.New(clientKeys, channel.RoleClient)
	if err != nil {
		t.Fatal(err)
	}
	serverChannel, err := channel.New(established.Keys, channel.RoleServer)
	if err != nil {
		t.Fatal(err)
	}
	_ = sessionID

	// A confirm frame naming a different session decrypts fine but
	// fails validation.
	finish, err := BuildFinish(clientChannel, "0000000000000000")
	if err != nil {
		t.Fatal(err)
	}
	plaintext, err := serverChannel.Decrypt(finish.Frame)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyConfirm(plaintext, established.SessionID); err == nil {
		t.Fatal("confirmation for wrong session accepted")
	}
}

func TestInitiatorSingleUse(t *testing.T) {
	pair := newTestPair(t)
	initiator := NewInitiator(pair.client, pair.server.Public)
	if _, err := initiator.CreateInit(); err != nil {
		t.Fatal(err)
	}
	if _, err := initiator.CreateInit(); err == nil {
		t.Fatal("second CreateInit must fail")
	}
}
