package evm

// characterABI is the Character ERC-721 contract interface. tokenURI returns
// base_uri joined with the stored metadata_uri.
const characterABI = `[
  {"type":"function","name":"create_character","stateMutability":"nonpayable",
   "inputs":[{"name":"owner","type":"address"},{"name":"metadata_uri","type":"string"}],"outputs":[]},
  {"type":"function","name":"gain_experience","stateMutability":"nonpayable",
   "inputs":[{"name":"token_id","type":"uint256"},{"name":"xp_gained","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"set_token_uri","stateMutability":"nonpayable",
   "inputs":[{"name":"token_id","type":"uint256"},{"name":"metadata_uri","type":"string"}],"outputs":[]},
  {"type":"function","name":"kill_character","stateMutability":"nonpayable",
   "inputs":[{"name":"token_id","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"query_character","stateMutability":"view",
   "inputs":[{"name":"token_id","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"level","type":"uint256"},{"name":"experience","type":"uint256"}]}]},
  {"type":"function","name":"ownerOf","stateMutability":"view",
   "inputs":[{"name":"token_id","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"tokenURI","stateMutability":"view",
   "inputs":[{"name":"token_id","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"totalSupply","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"tokenOfOwnerByIndex","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"Transfer","anonymous":false,
   "inputs":[{"name":"sender","type":"address","indexed":true},
             {"name":"receiver","type":"address","indexed":true},
             {"name":"token_id","type":"uint256","indexed":true}]}
]`
