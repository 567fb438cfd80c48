package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetBeaconOracleABI returns the ABI for the beacon oracle contract: the
// update event emitted on every successful write, the timestamp→root read
// method used as the duplicate guard, and the addTimestamp write method.
func GetBeaconOracleABI() (*abi.ABI, error) {
	return ParseABI(`[
		{
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "checkpointId", "type": "uint256"},
				{"indexed": false, "name": "timestamp", "type": "uint256"},
				{"indexed": false, "name": "beaconBlockRoot", "type": "bytes32"}
			],
			"name": "OracleUpdate",
			"type": "event"
		},
		{
			"inputs": [{"name": "timestamp", "type": "uint256"}],
			"name": "timestampToBeaconRoot",
			"outputs": [{"name": "", "type": "bytes32"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [{"name": "timestamp", "type": "uint256"}],
			"name": "addTimestamp",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)
}
