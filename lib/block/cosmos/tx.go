package cosmos

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tarancss/chatrelay/lib/block/types"
)

// Type urls of the messages the relay signs.
const (
	MsgSendURL            = "/cosmos.bank.v1beta1.MsgSend"
	MsgExecuteContractURL = "/cosmwasm.wasm.v1.MsgExecuteContract"
	PubKeyURL             = "/cosmos.crypto.secp256k1.PubKey"
)

const signModeDirect = 1

// field helpers. Proto3 scalars are omitted when zero; embedded messages and repeated bytes are always written.

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)

	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)

	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}

	b = protowire.AppendTag(b, num, protowire.VarintType)

	return protowire.AppendVarint(b, v)
}

func encodeCoin(c types.Coin) []byte {
	var b []byte
	b = appendString(b, 1, c.Denom)

	return appendString(b, 2, c.Amount)
}

func encodeAny(typeURL string, value []byte) []byte {
	var b []byte
	b = appendString(b, 1, typeURL)

	return appendBytes(b, 2, value)
}

func encodeMsgSend(from, to string, amount []types.Coin) []byte {
	var b []byte
	b = appendString(b, 1, from)
	b = appendString(b, 2, to)

	for _, c := range amount {
		b = appendBytes(b, 3, encodeCoin(c))
	}

	return encodeAny(MsgSendURL, b)
}

func encodeMsgExecuteContract(sender, contract string, msg []byte, funds []types.Coin) []byte {
	var b []byte
	b = appendString(b, 1, sender)
	b = appendString(b, 2, contract)
	b = appendBytes(b, 3, msg)

	for _, c := range funds {
		b = appendBytes(b, 5, encodeCoin(c))
	}

	return encodeAny(MsgExecuteContractURL, b)
}

func encodeTxBody(msgs [][]byte, memo string) []byte {
	var b []byte
	for _, m := range msgs {
		b = appendBytes(b, 1, m)
	}

	return appendString(b, 2, memo)
}

func encodePubKey(key []byte) []byte {
	return encodeAny(PubKeyURL, appendBytes(nil, 1, key))
}

func encodeAuthInfo(pubKey []byte, sequence uint64, fee types.Coin, gas uint64) []byte {
	single := appendVarint(nil, 1, signModeDirect)
	modeInfo := appendBytes(nil, 1, single)

	var si []byte
	si = appendBytes(si, 1, encodePubKey(pubKey))
	si = appendBytes(si, 2, modeInfo)
	si = appendVarint(si, 3, sequence)

	var f []byte
	f = appendBytes(f, 1, encodeCoin(fee))
	f = appendVarint(f, 2, gas)

	var b []byte
	b = appendBytes(b, 1, si)

	return appendBytes(b, 2, f)
}

func encodeSignDoc(body, authInfo []byte, chainID string, accountNumber uint64) []byte {
	var b []byte
	b = appendBytes(b, 1, body)
	b = appendBytes(b, 2, authInfo)
	b = appendString(b, 3, chainID)
	b = appendVarint(b, 4, accountNumber)

	return b
}

func encodeTxRaw(body, authInfo, signature []byte) []byte {
	var b []byte
	b = appendBytes(b, 1, body)
	b = appendBytes(b, 2, authInfo)

	return appendBytes(b, 3, signature)
}
