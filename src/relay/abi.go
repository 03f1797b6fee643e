package relay

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const registryABI = `[
 {"type":"function","name":"registerProposal","stateMutability":"nonpayable","inputs":[{"name":"proposalHash","type":"bytes32"},{"name":"proposalId","type":"uint256"},{"name":"level","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"finalizeVote","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"resultHash","type":"bytes32"}],"outputs":[]},
 {"type":"function","name":"adminUpdate","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"statusHash","type":"bytes32"}],"outputs":[]},
 {"type":"function","name":"verifyProposalHash","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"},{"name":"hash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"verifyResultHash","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"},{"name":"hash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"proposalCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"event","name":"ProposalRegistered","anonymous":false,"inputs":[{"name":"proposalId","type":"uint256","indexed":true},{"name":"proposalHash","type":"bytes32","indexed":false},{"name":"level","type":"uint256","indexed":false}]},
 {"type":"event","name":"VoteFinalized","anonymous":false,"inputs":[{"name":"proposalId","type":"uint256","indexed":true},{"name":"resultHash","type":"bytes32","indexed":false}]},
 {"type":"event","name":"AdminStatusUpdated","anonymous":false,"inputs":[{"name":"proposalId","type":"uint256","indexed":true},{"name":"statusHash","type":"bytes32","indexed":false},{"name":"admin","type":"address","indexed":true}]}
]`

// RegistryABI parses the registry interface.
func RegistryABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(registryABI))
}
