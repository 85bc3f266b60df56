package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrMalformedAddress is returned for addresses that are not canonical hex addresses.
var ErrMalformedAddress = errors.New("malformed address")

// ParseAddress accepts a 0x-prefixed 20 byte hex address. Mixed-case input must
// carry a valid EIP-55 checksum; single-case input is accepted as is.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if len(input) != 2+2*common.AddressLength || !strings.HasPrefix(input, "0x") || !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrMalformedAddress, input)
	}
	digits := input[2:]
	if strings.ToLower(digits) != digits && strings.ToUpper(digits) != digits {
		mixed, err := common.NewMixedcaseAddressFromString(input)
		if err != nil || !mixed.ValidChecksum() {
			return common.Address{}, fmt.Errorf("%w: bad checksum %q", ErrMalformedAddress, input)
		}
	}
	return common.HexToAddress(input), nil
}

// ParseAddresses converts string addresses, skipping blank entries.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input) == "" {
			continue
		}
		addr, err := ParseAddress(input)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}
