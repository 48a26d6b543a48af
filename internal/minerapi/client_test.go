package minerapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	okReply       = `{"STATUS":[{"STATUS":"S","Msg":"ok"}],"id":1}`
	rejectedReply = `{"STATUS":[{"STATUS":"E","Msg":"Invalid command"}],"id":1}`
)

func newTestClient(t *testing.T, miner *fakeMiner, split bool, commands ...string) *Client {
	t.Helper()
	return NewClient(miner.Address(t), ClientOptions{
		Commands:        commands,
		SplitAggregates: split,
		Timeout:         2 * time.Second,
	})
}

func TestSendCommand(t *testing.T) {
	miner := newFakeMiner(t, func(command string) []byte {
		switch command {
		case "summary":
			return []byte(`{"STATUS":[{"STATUS":"S"}],"SUMMARY":[{"Elapsed":42,"MHS av":inf}],"id":1}` + "\x00")
		default:
			return []byte(rejectedReply)
		}
	})
	client := newTestClient(t, miner, false, "summary")
	ctx := context.Background()

	resp, err := client.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, resp.Section("SUMMARY"), 1)
	assert.EqualValues(t, 42, resp.Section("SUMMARY")[0]["Elapsed"])
	assert.EqualValues(t, 0, resp.Section("SUMMARY")[0]["MHS av"])

	_, err = client.SendCommand(ctx, Cmd("bogus"))
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "bogus", cmdErr.Command)
	assert.Equal(t, "Invalid command", cmdErr.Message)

	resp, err = client.SendCommand(ctx, Cmd("bogus"), IgnoreErrors())
	require.NoError(t, err)
	assert.Equal(t, parse(t, rejectedReply), resp)
}

func TestSendCommandDecodeErrorNotSuppressed(t *testing.T) {
	miner := newFakeMiner(t, func(string) []byte { return []byte("not json at all") })
	client := newTestClient(t, miner, false)

	_, err := client.SendCommand(context.Background(), Cmd("version"), IgnoreErrors())
	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestSendCommandRejectsUnsupportedParameter(t *testing.T) {
	miner := newFakeMiner(t, func(string) []byte { return []byte(okReply) })
	client := newTestClient(t, miner, false)

	_, err := client.SendCommand(context.Background(), Command{Name: "addpool", Parameter: 1.5})
	require.Error(t, err)
	assert.Empty(t, miner.Received())

	_, err = client.SendCommand(context.Background(), Command{Name: "enablepool", Parameter: 0})
	require.NoError(t, err)
}

func TestEncode(t *testing.T) {
	data, err := Command{Name: "switchpool", Parameter: 1}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"switchpool","parameter":1}`, string(data))

	data, err = Command{Name: "ascset", Parameter: false}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"ascset","parameter":false}`, string(data))

	data, err = Cmd("summary+pools").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"summary+pools"}`, string(data))

	_, err = Cmd("").Encode()
	assert.Error(t, err)
}

func TestMulticommandAggregated(t *testing.T) {
	miner := newFakeMiner(t, func(command string) []byte {
		if command == "summary+pools" {
			return []byte(`{"summary":[{"STATUS":[{"STATUS":"S"}]}],"pools":[{"STATUS":[{"STATUS":"S"}]}],"id":1}`)
		}
		return []byte(rejectedReply)
	})
	client := newTestClient(t, miner, true, "summary", "pools", "devs")

	resp, err := client.Multicommand(context.Background(), "summary", "pools", "fans")
	require.NoError(t, err)
	assert.Equal(t, []string{"pools", "summary"}, resp.Commands())
	assert.Equal(t, []string{"summary+pools"}, miner.Received())
}

func TestMulticommandFallback(t *testing.T) {
	miner := newFakeMiner(t, func(command string) []byte {
		switch command {
		case "summary":
			return []byte(`{"STATUS":[{"STATUS":"S"}],"SUMMARY":[{"Elapsed":1}],"id":1}`)
		case "pools":
			return []byte(`{"STATUS":[{"STATUS":"S"}],"POOLS":[{"POOL":0}],"id":1}`)
		default:
			return []byte(rejectedReply)
		}
	})
	client := newTestClient(t, miner, true, "summary", "pools")

	resp, err := client.Multicommand(context.Background(), "summary", "pools")
	require.NoError(t, err)
	assert.Equal(t, []string{"summary+pools", "summary", "pools"}, miner.Received())
	assert.Equal(t, ShapeAggregated, resp.Shape())

	summary, ok := resp.Payload("summary")
	require.True(t, ok)
	assert.Len(t, summary.Section("SUMMARY"), 1)

	pools, ok := resp.Payload("pools")
	require.True(t, ok)
	assert.Len(t, pools.Section("POOLS"), 1)
}

func TestMulticommandFallbackContinuesAfterFailure(t *testing.T) {
	miner := newFakeMiner(t, func(command string) []byte {
		switch command {
		case "pools":
			return []byte(`{"STATUS":[{"STATUS":"S"}],"POOLS":[],"id":1}`)
		case "devs":
			return []byte(`{"STATUS":[{"STATUS":"E","Msg":"No ASCs"}],"id":1}`)
		default:
			return []byte(rejectedReply)
		}
	})
	client := newTestClient(t, miner, true, "devs", "pools")

	resp, err := client.Multicommand(context.Background(), "devs", "pools")
	require.Error(t, err)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "devs", cmdErr.Command)
	assert.Equal(t, "No ASCs", cmdErr.Message)

	assert.Equal(t, []string{"devs+pools", "devs", "pools"}, miner.Received())
	assert.Contains(t, resp, "pools")
	assert.NotContains(t, resp, "devs")
}

func TestMulticommandFallbackOnUndecodableAggregate(t *testing.T) {
	miner := newFakeMiner(t, func(command string) []byte {
		switch command {
		case "summary":
			return []byte(`{"STATUS":[{"STATUS":"S"}],"SUMMARY":[{"Elapsed":1}],"id":1}`)
		case "pools":
			return []byte(`{"STATUS":[{"STATUS":"S"}],"POOLS":[{"POOL":0}],"id":1}`)
		default:
			return []byte("not json at all")
		}
	})
	client := newTestClient(t, miner, true, "summary", "pools")

	resp, err := client.Multicommand(context.Background(), "summary", "pools")
	require.NoError(t, err)
	assert.Equal(t, []string{"summary+pools", "summary", "pools"}, miner.Received())
	assert.Contains(t, resp, "summary")
	assert.Contains(t, resp, "pools")

	plain := newTestClient(t, miner, false, "summary", "pools")
	_, err = plain.Multicommand(context.Background(), "summary", "pools")
	assert.True(t, IsDecodeError(err))
}

func TestMulticommandWithoutSplitReturnsError(t *testing.T) {
	miner := newFakeMiner(t, func(string) []byte { return []byte(rejectedReply) })
	client := newTestClient(t, miner, false, "summary", "pools")

	_, err := client.Multicommand(context.Background(), "summary", "pools")
	assert.True(t, IsCommandError(err))
	assert.Equal(t, []string{"summary+pools"}, miner.Received())
}

func TestMulticommandNoSupportedCommands(t *testing.T) {
	miner := newFakeMiner(t, func(string) []byte { return []byte(okReply) })
	client := newTestClient(t, miner, true, "summary")

	_, err := client.Multicommand(context.Background(), "fans", "tunerstatus")
	assert.ErrorIs(t, err, ErrNoCommands)
	assert.Empty(t, miner.Received())
}

func TestClientCommands(t *testing.T) {
	client := NewClient(NewAddress("10.0.0.1", 0), ClientOptions{Commands: []string{"version", "devs", "summary"}})

	assert.Equal(t, []string{"devs", "summary", "version"}, client.Commands())
	assert.True(t, client.Supports("devs"))
	assert.False(t, client.Supports("fans"))
	assert.Equal(t, "10.0.0.1:4028", client.Address().String())
}

type stubExchanger struct {
	reply []byte
	err   error
}

func (s stubExchanger) Exchange(context.Context, Address, []byte) ([]byte, error) {
	return s.reply, s.err
}

func TestClientPropagatesTransportErrors(t *testing.T) {
	for _, sentinel := range []error{ErrTimeout, ErrConnection} {
		client := NewClient(NewAddress("10.0.0.1", 0), ClientOptions{
			Commands:        []string{"summary", "pools"},
			SplitAggregates: true,
			Exchanger:       stubExchanger{err: sentinel},
		})

		_, err := client.Multicommand(context.Background(), "summary", "pools")
		assert.True(t, errors.Is(err, sentinel))
		assert.False(t, IsCommandError(err))
	}
}
